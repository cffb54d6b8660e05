// Package model defines the documents and update instructions shared by the ETL jobs.
package model

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status represents the lifecycle state of a work record.
type Status string

// Status values persisted on product and IP records.
const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
	StatusDone      Status = "done"
)

// MaxRetries is the retry_count ceiling after which a product is no longer eligible.
const MaxRetries = 3

// Product is one distinct product awaiting (or holding) its scraped name.
type Product struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ProductID   string             `bson:"product_id" json:"product_id"`
	CurrentURL  string             `bson:"current_url,omitempty" json:"current_url,omitempty"`
	ProductName *string            `bson:"product_name" json:"product_name"`
	Status      Status             `bson:"status" json:"status"`
	RetryCount  int                `bson:"retry_count,omitempty" json:"retry_count,omitempty"`
}

// ProductUpdate is a single "set fields on the record keyed by product_id" instruction.
type ProductUpdate struct {
	ProductID  string
	Status     Status
	Name       string
	RetryCount int
}

// Location holds the country resolved for an IP address.
type Location struct {
	CountryCode string `bson:"country_code" json:"country_code"`
	CountryName string `bson:"country_name" json:"country_name"`
}

// DistinctIP is one distinct client IP pending geolocation enrichment.
type DistinctIP struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	IP       string             `bson:"ip" json:"ip"`
	Location *Location          `bson:"location" json:"location"`
	Status   Status             `bson:"status" json:"status"`
}

// IPUpdate records the enrichment outcome for a single IP document.
type IPUpdate struct {
	ID       primitive.ObjectID
	Status   Status
	Location *Location
}

// BulkResult summarizes an unordered bulk write.
type BulkResult struct {
	Operations  int
	Inserted    int64
	Matched     int64
	Modified    int64
	Upserted    int64
	WriteErrors int
}
