package box

import "testing"

func TestAllowDenyPolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy AllowDenyPolicy
		ip     string
		want   bool
	}{
		{"empty policy allows everything", AllowDenyPolicy{}, "10.0.0.1", true},
		{"deny wins over no allow list", AllowDenyPolicy{DenyIP: []string{"10."}}, "10.0.0.1", false},
		{"allow list restricts", AllowDenyPolicy{AllowIP: []string{"127."}}, "10.0.0.1", false},
		{"allow list matches", AllowDenyPolicy{AllowIP: []string{"127."}}, "127.0.0.1", true},
		{"deny overrides allow", AllowDenyPolicy{AllowIP: []string{"10."}, DenyIP: []string{"10.0.0.1"}}, "10.0.0.1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Allowed(tc.ip); got != tc.want {
				t.Fatalf("Allowed(%q) = %v, want %v", tc.ip, got, tc.want)
			}
		})
	}
}
