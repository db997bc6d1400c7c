package eval

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pondoc/internal/pon"
)

func TestGenerateJSONDocs_Golden(t *testing.T) {
	noop := func(*Context, Args) (pon.Value, error) { return pon.Nil{}, nil }
	r := testRegistry(t,
		Function{
			Name:    "testy",
			Doc:     "Helps test",
			Returns: pon.TypeNumber,
			Arg: MapSchema{Fields: []Field{
				Required("some", numberSchema),
				Defaulted("thing", numberSchema, "4.0"),
				Optional("opt", ArraySchema{Elem: pon.TypeString}),
			}},
			Call: noop,
		},
		Function{
			Name:    "other",
			Doc:     "Picks a mode",
			Returns: pon.TypeString,
			Arg: Capture("mode", EnumSchema{Options: []EnumOption{
				{Name: "hej", Value: pon.String("hello")},
				{Name: "va", Value: pon.String("what")},
			}}),
			Call: noop,
		},
	)

	data, err := r.GenerateJSONDocs()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "docs", append(data, '\n'))
}

func TestDocs_Stdlib(t *testing.T) {
	r, err := NewStdRegistry()
	require.NoError(t, err)

	docs := r.Docs()
	require.Len(t, docs, 1)
	assert.Equal(t, StdModule, docs[0].Name)
	assert.Len(t, docs[0].Functions, len(r.Names()))

	data, err := r.GenerateJSONDocs()
	require.NoError(t, err)
	var decoded []ModuleDoc
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, docs, decoded)
}
