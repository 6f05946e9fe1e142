package flowsma

// Field length limits enforced by the remote workspace schema. Values
// are truncated client-side so an oversized cell degrades instead of
// failing the insert.
const (
	MaxReferenceLen  = 50
	MaxNoteLen       = 255
	MaxClientNameLen = 100
)

// Truncate clips s to at most max bytes.
func Truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// LoginRequest is the credential payload for the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token issued by the workspace.
// ExpiresIn is in seconds and may be zero when the server omits it.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// ListQuery selects records from a workflow. Pattern narrows the
// listing server-side; exact matching still happens client-side
// because the server match is fuzzy.
type ListQuery struct {
	StatusID   int    `json:"statusid"`
	FlowID     int    `json:"flowid"`
	Pattern    string `json:"pattern"`
	Offset     int    `json:"offset"`
	Max        int    `json:"max"`
	Sort       string `json:"sort"`
	Descending bool   `json:"descending"`
}

// DefaultListQuery returns the standard listing window for duplicate
// checks against the given workflow.
func DefaultListQuery(flowID, statusID int, pattern string) ListQuery {
	return ListQuery{
		StatusID:   statusID,
		FlowID:     flowID,
		Pattern:    pattern,
		Offset:     0,
		Max:        50,
		Sort:       "referenciatexto",
		Descending: false,
	}
}

// Record is one workflow record as returned by the listing endpoint.
type Record struct {
	ID            int     `json:"id"`
	ReferenceText string  `json:"referenciatexto"`
	Date          string  `json:"fecha"`
	DueDate       string  `json:"fechacompromiso"`
	ClientName    string  `json:"clientname"`
	Description   string  `json:"descrip"`
	TotalTax      float64 `json:"totalimpuestos"`
	TotalPrice    float64 `json:"totalprecio"`
}

// ListResponse wraps the listing endpoint's result set.
type ListResponse struct {
	Rows  []Record `json:"rows"`
	Total int      `json:"total"`
}

// RecordPayload is the insert body for the save endpoint. Field names
// follow the workspace schema.
type RecordPayload struct {
	ReferenceText string  `json:"referenciatexto"`
	Date          string  `json:"fecha"`
	DueDate       string  `json:"fechacompromiso"`
	AdminNotes    string  `json:"obsadm"`
	InitialNotes  string  `json:"obsinicio"`
	SalesNotes    string  `json:"obsventas"`
	TotalTax      float64 `json:"totalimpuestos"`
	TotalPrice    float64 `json:"totalprecio"`
	VarCN0        float64 `json:"varcn0"`
	VarCN1        float64 `json:"varcn1"`
	ClientName    string  `json:"clientname"`
	Description   string  `json:"descrip"`
	FlowID        int     `json:"flowid"`
	StatusID      int     `json:"statusid"`
	StatusFlowID  int     `json:"statusflowid"`
	CurrentUser   int     `json:"currentuser"`
}

// Clamp truncates every length-limited field in place.
func (p *RecordPayload) Clamp() {
	p.ReferenceText = Truncate(p.ReferenceText, MaxReferenceLen)
	p.AdminNotes = Truncate(p.AdminNotes, MaxNoteLen)
	p.InitialNotes = Truncate(p.InitialNotes, MaxNoteLen)
	p.SalesNotes = Truncate(p.SalesNotes, MaxNoteLen)
	p.Description = Truncate(p.Description, MaxNoteLen)
	p.ClientName = Truncate(p.ClientName, MaxClientNameLen)
}

// SaveResponse is the insert endpoint's acknowledgment.
type SaveResponse struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}
