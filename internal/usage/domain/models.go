// Package domain contains persistence models for counter-based feature usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageMetadata describes what a usage record was spent on.
type UsageMetadata struct {
	Source     string   `json:"source,omitempty"`
	ResourceID string   `json:"resource_id,omitempty"`
	URLs       []string `json:"urls,omitempty"`
	Reference  string   `json:"reference,omitempty"`
}

// UsageRecord is an append-only count against a counter-based feature.
type UsageRecord struct {
	ID         snowflake.ID                      `gorm:"primaryKey"`
	OrgID      snowflake.ID                      `gorm:"not null;index:ix_usage_records_org_feature,priority:1"`
	FeatureID  snowflake.ID                      `gorm:"not null;index:ix_usage_records_org_feature,priority:2"`
	Quantity   int64                             `gorm:"not null"`
	Metadata   datatypes.JSONType[UsageMetadata] `gorm:"type:json"`
	RecordedAt time.Time                         `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// FeatureTotal is the cumulative usage of one org for one feature.
type FeatureTotal struct {
	OrgID    snowflake.ID
	Quantity int64
}
