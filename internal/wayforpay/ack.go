package wayforpay

import (
	"strconv"
	"time"
)

const statusAccept = "accept"

var ackSignatureKeys = []string{"orderReference", "status", "time"}

// Ack is the body the provider expects in reply to a notification.
type Ack struct {
	OrderReference string `json:"orderReference"`
	Status         string `json:"status"`
	Time           int64  `json:"time"`
	Signature      string `json:"signature"`
}

// NewAck builds a signed "accept" reply for ref.
func NewAck(s Signer, ref string, now time.Time) Ack {
	ts := now.Unix()
	fields := Fields{}
	fields.Set("orderReference", ref)
	fields.Set("status", statusAccept)
	fields.Set("time", strconv.FormatInt(ts, 10))
	return Ack{
		OrderReference: ref,
		Status:         statusAccept,
		Time:           ts,
		Signature:      s.Sign(fields, ackSignatureKeys),
	}
}
