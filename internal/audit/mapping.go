package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route pattern.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides where the last path segment does not read as verb-resource.
var routeOverrides = map[string]ActionResource{
	"/admin/user-sessions":         {Action: "list", Resource: "session"},
	"/sessions/{id}/payment/admin": {Action: "admin_payment", Resource: "session"},
}

// ParseRoute returns action and resource for a chi route pattern (e.g. /admin/fail-session).
// A dashed last segment splits into verb and resource (fail-session -> fail, session;
// delete-phone-number -> delete, phone_number). Otherwise the last segment is the action and the
// resource is the singular of the first segment (/sessions/{id}/refund -> refund, session).
func ParseRoute(pattern string) ActionResource {
	if ar, ok := routeOverrides[pattern]; ok {
		return ar
	}
	var segs []string
	for _, s := range strings.Split(strings.Trim(pattern, "/"), "/") {
		if s == "" || s == "admin" || strings.HasPrefix(s, "{") {
			continue
		}
		segs = append(segs, s)
	}
	if len(segs) == 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	last := segs[len(segs)-1]
	if verb, rest, ok := strings.Cut(last, "-"); ok {
		return ActionResource{Action: verb, Resource: strings.ReplaceAll(rest, "-", "_")}
	}
	if len(segs) == 1 {
		return ActionResource{Action: "create", Resource: singular(last)}
	}
	return ActionResource{Action: last, Resource: singular(segs[0])}
}

func singular(s string) string {
	return strings.TrimSuffix(s, "s")
}
