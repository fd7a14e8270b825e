package matching

// ServiceKeys is the set of normalized keys a requested service answers to:
// the raw request plus, once resolved, the canonical service's id, slug and
// title.
type ServiceKeys map[string]struct{}

// NewServiceKeys seeds the set from the request ref and any canonical keys.
func NewServiceKeys(ref ServiceRef, canonical ...string) ServiceKeys {
	keys := make(ServiceKeys)
	for _, k := range ref.Keys() {
		keys[k] = struct{}{}
	}
	keys.Add(canonical...)
	return keys
}

// Add inserts additional raw keys.
func (k ServiceKeys) Add(raw ...string) {
	for _, s := range raw {
		if n := Normalize(s); n != "" {
			k[n] = struct{}{}
		}
	}
}

// Matches is the one comparison used everywhere a doctor's services entry
// is tested against a requested service.
func (k ServiceKeys) Matches(ref ServiceRef) bool {
	for _, key := range ref.Keys() {
		if _, ok := k[key]; ok {
			return true
		}
	}
	return false
}

// MatchesAny reports whether any entry of refs matches.
func (k ServiceKeys) MatchesAny(refs []ServiceRef) bool {
	for _, r := range refs {
		if k.Matches(r) {
			return true
		}
	}
	return false
}

// Offerer is anything carrying a services list, typically a doctor account.
type Offerer interface {
	OfferedServices() []ServiceRef
}

// Offers reports whether d lists a service matching keys.
func Offers[D Offerer](d D, keys ServiceKeys) bool {
	return keys.MatchesAny(d.OfferedServices())
}

// DoctorsOffering filters roster down to the doctors qualified for keys,
// preserving roster order.
func DoctorsOffering[D Offerer](keys ServiceKeys, roster []D) []D {
	if len(keys) == 0 {
		return nil
	}
	var out []D
	for _, d := range roster {
		if Offers(d, keys) {
			out = append(out, d)
		}
	}
	return out
}
