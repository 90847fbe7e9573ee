package types

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// applyPatch decodes the fields present in patch onto target, leaving all other fields untouched. Values are
// decoded weakly, so JSON numbers (float64) are accepted for integer fields.
func applyPatch(target interface{}, patch map[string]interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return errors.Wrapf(ErrInvalidInput, "could not create decoder: %s", err)
	}
	if err := dec.Decode(patch); err != nil {
		return errors.Wrapf(ErrInvalidInput, "could not apply patch: %s", err)
	}
	return nil
}

// PatchId extracts the "id" field of a patch, 0 if it is missing or not a number.
func PatchId(patch map[string]interface{}) int64 {
	res := struct {
		Id int64 `mapstructure:"id"`
	}{}
	_ = mapstructure.WeakDecode(patch, &res)
	return res.Id
}
