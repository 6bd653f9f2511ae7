package payment

import (
	"fmt"
	"strings"
)

// Field describes one entry of a provider wire schema.
type Field struct {
	Name     string
	Required bool
}

// Schema is the ordered field list a provider documents for one message.
type Schema []Field

// fieldValue is a populated schema entry. Adapters build request payloads as
// ordered slices and only turn them into a map at the serialisation boundary.
type fieldValue struct {
	Name  string
	Value string
}

// Build checks the populated values against the schema and returns the wire
// map. Unknown names and missing required values are programming errors and
// are reported as configuration failures.
func (s Schema) Build(provider ProviderKey, values []fieldValue) (map[string]string, error) {
	known := make(map[string]Field, len(s))
	for _, f := range s {
		known[f.Name] = f
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		if _, ok := known[v.Name]; !ok {
			return nil, configurationError(provider, "field %s is not part of the %s request schema", v.Name, provider)
		}
		out[v.Name] = v.Value
	}
	if missing := s.Missing(out); len(missing) > 0 {
		return nil, configurationError(provider, "%s request is missing %s", provider, strings.Join(missing, ", "))
	}
	return out, nil
}

// Missing lists required fields that are absent or blank in the payload.
func (s Schema) Missing(payload map[string]string) []string {
	var missing []string
	for _, f := range s {
		if !f.Required {
			continue
		}
		if strings.TrimSpace(payload[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Names returns the field names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

func (s Schema) String() string {
	return fmt.Sprintf("%v", s.Names())
}
