package registry

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
)

// PolicyLinks are the optional document URLs an instance publishes.
type PolicyLinks struct {
	RulesURL          string `json:"rulesUrl,omitempty"`
	DescriptionURL    string `json:"descriptionUrl,omitempty"`
	TermsOfServiceURL string `json:"termsOfServiceUrl,omitempty"`
	PrivacyPolicyURL  string `json:"privacyPolicyUrl,omitempty"`
}

// Instance is a registered third-party deployment.
type Instance struct {
	ID            uuid.UUID                       `gorm:"type:uuid;primaryKey"`
	Name          string                          `gorm:"not null"`
	Link          string                          `gorm:"not null;uniqueIndex:instances_link_key"` // immutable after creation
	WebsocketLink string                          `gorm:"not null"`
	Region        *Region                         `gorm:"type:geometry(Geometry,4326)"` // GIST index created in Migrate
	ImageURL      string                          `gorm:"column:image_url;not null"`
	UserCount     int64                           `gorm:"not null;default:0"`
	PolicyLinks   datatypes.JSONType[PolicyLinks] `gorm:"type:jsonb;not null;default:'{}'"`
	Status        Status                          `gorm:"type:text;not null;default:'pending';index:instances_status_idx"`
	CreatedAt     time.Time                       `gorm:"not null"`
	UpdatedAt     *time.Time                      `gorm:"autoUpdateTime:false"`
	LastFetchedAt *time.Time
}

func (Instance) TableName() string {
	return "registry.instances"
}

// RankedInstance is an Instance with its geodesic distance in meters from the
// query point. Distance is nil when the instance has no region.
type RankedInstance struct {
	Instance
	Distance *float64 `gorm:"column:distance"`
}

// Detail is the canonical instance record produced by the normalizer. A nil
// field was not supplied.
type Detail struct {
	Name          *string
	Link          *string
	WebsocketLink *string
	Region        *Region
	ImageURL      *string
	UserCount     *int64

	RulesURL          *string
	DescriptionURL    *string
	TermsOfServiceURL *string
	PrivacyPolicyURL  *string

	// UpdatedAt comes from the top level of the payload only.
	UpdatedAt *time.Time
}

// mergePolicyLinks overlays the links present in d onto base.
func (d Detail) mergePolicyLinks(base PolicyLinks) PolicyLinks {
	if d.RulesURL != nil {
		base.RulesURL = *d.RulesURL
	}
	if d.DescriptionURL != nil {
		base.DescriptionURL = *d.DescriptionURL
	}
	if d.TermsOfServiceURL != nil {
		base.TermsOfServiceURL = *d.TermsOfServiceURL
	}
	if d.PrivacyPolicyURL != nil {
		base.PrivacyPolicyURL = *d.PrivacyPolicyURL
	}
	return base
}

// InstanceOut is the API representation of an instance.
type InstanceOut struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Link              string     `json:"link"`
	WebsocketLink     string     `json:"websocketLink"`
	Region            *Region    `json:"region"`
	ImageURL          string     `json:"imageUrl"`
	UserCount         int64      `json:"userCount"`
	RulesURL          string     `json:"rulesUrl,omitempty"`
	DescriptionURL    string     `json:"descriptionUrl,omitempty"`
	TermsOfServiceURL string     `json:"termsOfServiceUrl,omitempty"`
	PrivacyPolicyURL  string     `json:"privacyPolicyUrl,omitempty"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         *time.Time `json:"updatedAt"`
	LastFetchedAt     *time.Time `json:"lastFetchedAt"`
	Distance          *float64   `json:"distance,omitempty"`
}

func toInstanceOut(inst Instance) InstanceOut {
	links := inst.PolicyLinks.Data()
	return InstanceOut{
		ID:                inst.ID,
		Name:              inst.Name,
		Link:              inst.Link,
		WebsocketLink:     inst.WebsocketLink,
		Region:            inst.Region,
		ImageURL:          inst.ImageURL,
		UserCount:         inst.UserCount,
		RulesURL:          links.RulesURL,
		DescriptionURL:    links.DescriptionURL,
		TermsOfServiceURL: links.TermsOfServiceURL,
		PrivacyPolicyURL:  links.PrivacyPolicyURL,
		Status:            inst.Status,
		CreatedAt:         inst.CreatedAt,
		UpdatedAt:         inst.UpdatedAt,
		LastFetchedAt:     inst.LastFetchedAt,
	}
}

func toRankedOut(ri RankedInstance) InstanceOut {
	out := toInstanceOut(ri.Instance)
	out.Distance = ri.Distance
	return out
}
