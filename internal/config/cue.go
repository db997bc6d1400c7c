package config

import (
	_ "embed"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// parseCUE unifies the file with the #Config schema, which carries the
// defaults and constraints, and decodes the result.
func parseCUE(path string, data []byte) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, &LoadError{Path: "schema.cue", Message: "bad embedded schema", Err: err}
	}

	file := ctx.CompileBytes(data, cue.Filename(path))
	if err := file.Err(); err != nil {
		return Config{}, cueError(path, err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(file)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError(path, err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return Config{}, cueError(path, err)
	}
	return cfg, nil
}

// cueError reports the first CUE error with its position.
func cueError(path string, err error) error {
	le := &LoadError{Path: path, Message: err.Error(), Err: err}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return le
	}
	le.Message = errs[0].Error()
	for _, e := range errs {
		p := e.Position()
		if p.IsValid() && p.Filename() == path {
			le.Line, le.Column = p.Line(), p.Column()
			break
		}
	}
	return le
}
