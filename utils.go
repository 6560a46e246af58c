package checkind

import (
	"fmt"
	"strings"
)

// ParseATURI splits an at:// URI into repo, collection and record key.
func ParseATURI(uri string) (string, string, string, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return "", "", "", fmt.Errorf("unsupported uri scheme: %s", uri)
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid at uri: %s", uri)
	}

	return parts[0], parts[1], parts[2], nil
}

// ComposeATURI builds an at:// URI from repo, collection and record key.
func ComposeATURI(repo, collection, rkey string) string {
	return "at://" + repo + "/" + collection + "/" + rkey
}

// IsDID reports whether s looks like a decentralized identifier.
func IsDID(s string) bool {
	parts := strings.SplitN(s, ":", 3)
	return len(parts) == 3 && parts[0] == "did" && parts[1] != "" && parts[2] != ""
}
