package serializer

import (
	"fmt"
	"strings"
)

// serializers lists every available serializer, the first one is the default
var serializers = []func() IRPCSerializer{
	NewBinarySerializer,
	NewJSONSerializer,
	NewGOBSerializer,
}

// Names returns the configuration names of all serializers
func Names() []string {
	names := make([]string, 0, len(serializers))
	for _, factory := range serializers {
		names = append(names, factory().Name())
	}
	return names
}

// FromName returns the serializer with the given configuration name. An empty
// name selects the binary serializer.
func FromName(name string) (IRPCSerializer, error) {
	if name == "" {
		return serializers[0](), nil
	}
	for _, factory := range serializers {
		if s := factory(); s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown serializer: %s. must be one of %s", name, strings.Join(Names(), ", "))
}
