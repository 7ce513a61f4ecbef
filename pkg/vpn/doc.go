// Package vpn drives an external VPN client through operator-supplied
// command templates. The change command may contain a {location}
// placeholder; verification uses the verify command's output or, without
// one, a public IP lookup.
package vpn
