package config

import (
	"bytes"
	"errors"

	"github.com/pelletier/go-toml/v2"
)

// parseTOML decodes over the defaults, so absent keys keep them.
// Unknown keys are rejected.
func parseTOML(path string, data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		le := &LoadError{Path: path, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			le.Line, le.Column = de.Position()
		}
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) && len(strict.Errors) > 0 {
			le.Line, le.Column = strict.Errors[0].Position()
			le.Message = "unknown key " + joinKey(strict.Errors[0].Key())
		}
		return Config{}, le
	}
	return cfg, nil
}

func joinKey(k toml.Key) string {
	var b bytes.Buffer
	for i, part := range k {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
