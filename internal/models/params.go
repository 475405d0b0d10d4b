package models

type Parameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MaxParamValueLength is the longest parameter value MLflow accepts.
const MaxParamValueLength = 6000

// ParametersFromMap converts a flattened configuration into tracker parameters, truncating values
// MLflow would reject.
func ParametersFromMap(params map[string]string) []Parameter {
	result := make([]Parameter, 0, len(params))
	for key, value := range params {
		if len(value) > MaxParamValueLength {
			value = value[:MaxParamValueLength]
		}
		result = append(result, Parameter{Key: key, Value: value})
	}
	return result
}
