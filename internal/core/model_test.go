package core

import "testing"

func TestNormalizeUsername(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Foo", "foo"},
		{"@Foo", "foo"},
		{"  @Foo  ", "foo"},
		{"@ Foo", "foo"},
		{"FOO", "foo"},
		{"", ""},
		{"@", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeUsername(tc.in); got != tc.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRoleExempt(t *testing.T) {
	exempt := []Role{RoleModerator, RoleVIP, RoleBroadcaster}
	for _, r := range exempt {
		if !r.Exempt() {
			t.Errorf("%s should be exempt", r)
		}
	}
	if RoleEveryone.Exempt() {
		t.Error("everyone should not be exempt")
	}
	if Role("subscriber").Exempt() {
		t.Error("unknown roles should not be exempt")
	}
}
