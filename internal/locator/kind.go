package locator

import "fmt"

// Kind identifies one of the services the gateway is assembled from.
type Kind int

// Service kinds, in boot order.
const (
	KindJobRegistry Kind = iota + 1
	KindTemplateStore
	KindRouteConfig
)

var kindNames = map[Kind]string{
	KindJobRegistry:   "processor-registry",
	KindTemplateStore: "template-registry",
	KindRouteConfig:   "route-config-registry",
}

// Kinds lists every known kind.
func Kinds() []Kind {
	return []Kind{KindJobRegistry, KindTemplateStore, KindRouteConfig}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a stable service name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}
