package panel

import "encoding/json"

// CredentialScope selects which bearer token a request is signed with.
// Application keys have full resource control; client keys are the narrower
// per-server scope used for runtime operations such as backups.
type CredentialScope string

const (
	ScopeApplication CredentialScope = "application"
	ScopeClient      CredentialScope = "client"
)

// User is a panel account record.
type User struct {
	ID        int    `json:"id"`
	UUID      string `json:"uuid"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RootAdmin bool   `json:"root_admin"`
	TwoFactor bool   `json:"2fa"`
}

// Limits is the resource envelope bound to a server.
type Limits struct {
	Memory int `json:"memory"`
	Swap   int `json:"swap"`
	Disk   int `json:"disk"`
	IO     int `json:"io"`
	CPU    int `json:"cpu"`
}

// FeatureLimits caps the per-server feature counts.
type FeatureLimits struct {
	Databases   int `json:"databases"`
	Allocations int `json:"allocations"`
	Backups     int `json:"backups"`
}

// Server is a panel server record.
type Server struct {
	ID            int           `json:"id"`
	UUID          string        `json:"uuid"`
	Identifier    string        `json:"identifier"`
	Name          string        `json:"name"`
	Suspended     bool          `json:"suspended"`
	UserID        int           `json:"user"`
	NodeID        int           `json:"node"`
	Allocation    int           `json:"allocation"`
	Limits        Limits        `json:"limits"`
	FeatureLimits FeatureLimits `json:"feature_limits"`
}

// Node is a panel node record.
type Node struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	FQDN            string `json:"fqdn"`
	MemoryMB        int    `json:"memory"`
	DiskMB          int    `json:"disk"`
	MaintenanceMode bool   `json:"maintenance_mode"`
}

// Egg is an image template record.
type Egg struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Author      string `json:"author"`
	DockerImage string `json:"docker_image"`
	Startup     string `json:"startup"`
}

// Allocation is a network address/port pair on a node.
type Allocation struct {
	ID       int    `json:"id"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Assigned bool   `json:"assigned"`
}

// Resources is the client-API runtime usage snapshot for a server.
type Resources struct {
	CurrentState string `json:"current_state"`
	Usage        struct {
		MemoryBytes int64   `json:"memory_bytes"`
		DiskBytes   int64   `json:"disk_bytes"`
		CPUAbsolute float64 `json:"cpu_absolute"`
	} `json:"resources"`
}

// Backup is a client-API backup record.
type Backup struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Bytes       int64  `json:"bytes"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at"`
}

// Pagination carries the panel's list paging metadata.
type Pagination struct {
	Total       int `json:"total"`
	Count       int `json:"count"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

// wireObject is the panel's single-record envelope.
type wireObject struct {
	Object     string          `json:"object"`
	Attributes json.RawMessage `json:"attributes"`
}

// wireList is the panel's list envelope.
type wireList struct {
	Object string       `json:"object"`
	Data   []wireObject `json:"data"`
	Meta   struct {
		Pagination Pagination `json:"pagination"`
	} `json:"meta"`
}

// wireErrors is the panel's structured error body.
type wireErrors struct {
	Errors []struct {
		Code   string `json:"code"`
		Status string `json:"status"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CreateUserInput holds the fields for an account-create call.
type CreateUserInput struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

// CreateServerInput holds the fully composed fields for a server-create
// call. Image and allocation are resolved by the caller before this point.
type CreateServerInput struct {
	Name         string
	UserID       int
	EggID        int
	DockerImage  string
	AllocationID int
	Memory       int
	CPU          int
	Disk         int
}
