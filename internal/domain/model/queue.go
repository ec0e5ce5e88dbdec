package model

import "time"

// JobQueueItem is a leased view of a pending queue entry. ReceiptToken identifies this
// particular delivery; it stops working once the item is acknowledged or redelivered.
type JobQueueItem struct {
	ID             string    `json:"id"`
	JobKey         string    `json:"job_key"`
	ServerJobID    string    `json:"server_job_id"`
	ReceiptToken   string    `json:"receipt_token"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	ReceivedAt     time.Time `json:"received_at"`
	ReceiveCount   int       `json:"receive_count"`
}
