package git

import (
	"context"
	"net"
	"os"
	"os/user"
	"strings"
)

// DefaultIdentity derives a committer identity for the CI runner: the login
// name and <login>@<fqdn>. The host name is used as is when it cannot be
// qualified through DNS.
func DefaultIdentity(ctx context.Context) (name, email string, err error) {
	u, err := user.Current()
	if err != nil {
		return "", "", err
	}
	name = u.Username
	// Windows reports DOMAIN\user.
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name, name + "@" + fqdn(ctx), nil
}

func fqdn(ctx context.Context) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	if strings.Contains(host, ".") {
		return host
	}
	var r net.Resolver
	addrs, err := r.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return host
	}
	names, err := r.LookupAddr(ctx, addrs[0])
	if err != nil {
		return host
	}
	for _, n := range names {
		n = strings.TrimSuffix(n, ".")
		if strings.HasPrefix(n, host+".") {
			return n
		}
	}
	return host
}
