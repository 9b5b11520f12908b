package lead

import "time"

type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusConverted Status = "converted"
	StatusLost      Status = "lost"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusConverted, StatusLost:
		return true
	default:
		return false
	}
}

type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	WhatsApp  string    `json:"whatsapp"`
	Email     string    `json:"email,omitempty"`
	Company   string    `json:"company,omitempty"`
	Message   string    `json:"message,omitempty"`
	Source    string    `json:"source,omitempty"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LeadInput struct {
	Name     string `json:"name"`
	WhatsApp string `json:"whatsapp"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	Message  string `json:"message"`
	Source   string `json:"source"`
}

type LeadUpdate struct {
	Status *Status `json:"status"`
	Notes  *string `json:"notes"`
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type Page struct {
	Leads  []Lead `json:"leads"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}
