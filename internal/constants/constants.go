package constants

// OData XML namespaces
const (
	EdmNamespace    = "http://schemas.microsoft.com/ado/2006/04/edm"
	EdmxNamespace   = "http://schemas.microsoft.com/ado/2007/06/edmx"
	SAPNamespace    = "http://www.sap.com/Protocols/SAPData"
	EdmNamespaceV4  = "http://docs.oasis-open.org/odata/ns/edm"
	EdmxNamespaceV4 = "http://docs.oasis-open.org/odata/ns/edmx"
)

// HTTP methods used against OData services
const (
	GET    = "GET"
	POST   = "POST"
	PUT    = "PUT"
	PATCH  = "PATCH"
	MERGE  = "MERGE"
	DELETE = "DELETE"
)

// OData system query options
const (
	QueryFilter      = "$filter"
	QuerySelect      = "$select"
	QueryExpand      = "$expand"
	QueryOrderBy     = "$orderby"
	QueryTop         = "$top"
	QuerySkip        = "$skip"
	QueryCount       = "$count"
	QueryFormat      = "$format"
	QueryInlineCount = "$inlinecount"
)

// CSRF token headers (SAP-specific handshake for modifying requests)
const (
	CSRFTokenHeader = "X-CSRF-Token"
	CSRFTokenFetch  = "Fetch"
)

// HTTP headers
const (
	ContentType   = "Content-Type"
	Accept        = "Accept"
	Authorization = "Authorization"
	UserAgent     = "User-Agent"
)

// Content types
const (
	ContentTypeJSON      = "application/json"
	ContentTypeODataJSON = "application/json;odata=verbose"
	ContentTypeJSONV4    = "application/json;odata.metadata=minimal"
)

// Metadata endpoint relative to a service root
const MetadataEndpoint = "$metadata"

// Discovery limits
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 20
	MinSearchLimit     = 1
)

// Relevance weights for service-level matches. A no-query search assigns
// NoQueryScore to every service in the category.
const (
	ScoreServiceID          = 0.90
	ScoreServiceTitle       = 0.85
	ScoreServiceDescription = 0.70
	ScoreEntityName         = 0.95
	ScorePropertyName       = 0.75
	NoQueryScore            = 0.50
)

// Default values
const (
	DefaultUserAgent       = "OData-Registry/1.0 (Go)"
	DefaultTimeout         = 30 // seconds
	DefaultMetadataTimeout = 60 // seconds - SAP metadata documents can be large
)

// MCP-specific constants
const (
	MCPProtocolVersion = "2024-11-05"
	MCPServerName      = "odata-service-registry"
	MCPServerVersion   = "1.0.0"
)

// IsODataV4Namespace checks if the namespace is OData v4
func IsODataV4Namespace(namespace string) bool {
	return namespace == EdmNamespaceV4 || namespace == EdmxNamespaceV4
}

// ODataVersionFromNamespace determines the OData version from the schema namespace
func ODataVersionFromNamespace(namespace string) string {
	if IsODataV4Namespace(namespace) {
		return "4.0"
	}
	return "2.0"
}
