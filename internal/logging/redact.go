package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RedactedPlaceholder replaces sensitive values.
const RedactedPlaceholder = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`hf_[a-zA-Z0-9]{20,}`),                 // Hugging Face tokens
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),               // OpenAI keys
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),    // Authorization headers
	regexp.MustCompile(`(?i)password\s*[:=]\s*[^\s,;]{4,}`),   // DSNs and assignments
	regexp.MustCompile(`(?i)(api_?key|secret|token)\s*[:=]\s*[^\s,;]{8,}`),
}

var sensitiveKeys = []string{"API_KEY", "APIKEY", "PASSWORD", "SECRET", "TOKEN", "AUTHORIZATION"}

// RedactSensitiveData replaces every credential-looking substring of value.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, p := range sensitivePatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field name denotes a secret.
func IsSensitiveField(name string) bool {
	upper := strings.ToUpper(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zap.Field) zap.Field {
	if IsSensitiveField(f.Key) {
		return zap.String(f.Key, RedactedPlaceholder)
	}
	switch f.Type {
	case zapcore.StringType:
		if r := RedactSensitiveData(f.String); r != f.String {
			return zap.String(f.Key, r)
		}
	case zapcore.ArrayMarshalerType:
		if arr, ok := f.Interface.(zapcore.ArrayMarshaler); ok {
			if values, changed := redactStringArray(f.Key, arr); changed {
				return zap.Strings(f.Key, values)
			}
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			if r := RedactSensitiveData(err.Error()); r != err.Error() {
				return zap.String(f.Key, r)
			}
		}
	}
	return f
}

// redactStringArray redacts arrays made only of strings, such as zap.Strings.
// Other arrays are reported unchanged.
func redactStringArray(key string, arr zapcore.ArrayMarshaler) ([]string, bool) {
	enc := zapcore.NewMapObjectEncoder()
	if err := enc.AddArray(key, arr); err != nil {
		return nil, false
	}
	items, _ := enc.Fields[key].([]interface{})
	values := make([]string, 0, len(items))
	changed := false
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		r := RedactSensitiveData(s)
		changed = changed || r != s
		values = append(values, r)
	}
	return values, changed
}
