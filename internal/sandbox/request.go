package sandbox

import (
	"github.com/tidwall/gjson"
)

type fieldSpec struct {
	name string
	kind gjson.Type // gjson.String or gjson.True (any boolean)
}

// Every field is required. Unknown fields are ignored.
var requestSchema = []fieldSpec{
	{"language", gjson.String},
	{"code", gjson.String},
	{"preload", gjson.String},
	{"enable_network", gjson.True},
}

// ParseRequest validates a JSON payload and decodes it into a Request. On failure
// it returns a KindValidation *Error listing every offending field. It performs no
// I/O; it only checks shape and types.
func ParseRequest(body []byte) (Request, error) {
	if !gjson.ValidBytes(body) {
		return Request{}, validationError(FieldError{
			Loc:  []string{"body"},
			Msg:  "invalid JSON",
			Type: "value_error.jsondecode",
		})
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Request{}, validationError(FieldError{
			Loc:  []string{"body"},
			Msg:  "value is not a valid dict",
			Type: "type_error.dict",
		})
	}

	fields := make(map[string]gjson.Result, len(requestSchema))
	root.ForEach(func(key, value gjson.Result) bool {
		fields[key.String()] = value
		return true
	})

	var details []FieldError
	for _, f := range requestSchema {
		v, ok := fields[f.name]
		if !ok {
			details = append(details, FieldError{
				Loc:  []string{f.name},
				Msg:  "field required",
				Type: "value_error.missing",
			})
			continue
		}
		if fe, bad := checkType(f, v); bad {
			details = append(details, fe)
		}
	}
	if len(details) > 0 {
		return Request{}, validationError(details...)
	}

	return Request{
		Language:      fields["language"].Str,
		Code:          fields["code"].Str,
		Preload:       fields["preload"].Str,
		EnableNetwork: fields["enable_network"].Bool(),
	}, nil
}

func checkType(f fieldSpec, v gjson.Result) (FieldError, bool) {
	switch f.kind {
	case gjson.String:
		if v.Type != gjson.String {
			return FieldError{Loc: []string{f.name}, Msg: "str type expected", Type: "type_error.str"}, true
		}
	case gjson.True:
		if v.Type != gjson.True && v.Type != gjson.False {
			return FieldError{Loc: []string{f.name}, Msg: "value is not a valid boolean", Type: "type_error.bool"}, true
		}
	}
	return FieldError{}, false
}

func validationError(details ...FieldError) error {
	return &Error{Kind: KindValidation, Msg: "invalid request data", Details: details}
}
