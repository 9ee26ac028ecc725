package protocol

import (
	"fmt"
	"strings"
)

// URIScheme is the scheme of every resource URI exposed by the server
const URIScheme = "tari"

// MimeTypeJSON is the mime type of every resource document
const MimeTypeJSON = "application/json"

// Resource describes a readable resource
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is returned from resources/list
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ReadResourceParams defines the parameters for resources/read
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is one document returned from resources/read
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ReadResourceResult is returned from resources/read
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ResourceURI builds the URI for a resource name.
func ResourceURI(name string) string {
	return URIScheme + "://" + name
}

// ParseResourceURI extracts the resource name from a tari:// URI.
func ParseResourceURI(uri string) (string, error) {
	prefix := URIScheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("unsupported resource uri %q", uri)
	}
	name := strings.TrimPrefix(uri, prefix)
	if name == "" || strings.ContainsAny(name, "/?#") {
		return "", fmt.Errorf("malformed resource uri %q", uri)
	}
	return name, nil
}
