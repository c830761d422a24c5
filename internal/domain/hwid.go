package domain

// BindingDecision is the outcome of the hardware binding policy.
type BindingDecision int

const (
	// BindNew means no hardware id is bound yet; the caller persists the
	// incoming id as the new binding (first-use lock).
	BindNew BindingDecision = iota
	// BindAllow means the incoming id matches the stored binding.
	BindAllow
	// BindDeny means the incoming id differs from the stored binding.
	BindDeny
)

// CheckBinding is the shared hardware lock policy applied to accounts at
// login and to license keys at redemption. It never rebinds on mismatch;
// recovering from a legitimate hardware change goes through the explicit
// update-HWID operation, which bypasses this policy entirely.
func CheckBinding(stored, incoming string) BindingDecision {
	switch {
	case stored == "":
		return BindNew
	case stored == incoming:
		return BindAllow
	default:
		return BindDeny
	}
}
