package hub

import "github.com/afroash/device-hub/internal/models"

type deliveryKind int

const (
	deliverOne deliveryKind = iota
	deliverGroup
	joinGroup
	leaveGroup
)

type delivery struct {
	kind    deliveryKind
	target  string // connection id or group
	group   string // join/leave only
	event   models.MessageType
	payload interface{}
}

type record struct {
	deviceID string
	point    models.TelemetryPoint
}

// outbox collects the side effects of one mutation so they can be
// performed after the Router lock is released, in order.
type outbox struct {
	deliveries []delivery
	records    []record
}

func (o *outbox) toOne(connID string, event models.MessageType, payload interface{}) {
	o.deliveries = append(o.deliveries, delivery{kind: deliverOne, target: connID, event: event, payload: payload})
}

func (o *outbox) toGroup(group string, event models.MessageType, payload interface{}) {
	o.deliveries = append(o.deliveries, delivery{kind: deliverGroup, target: group, event: event, payload: payload})
}

func (o *outbox) join(connID, group string) {
	o.deliveries = append(o.deliveries, delivery{kind: joinGroup, target: connID, group: group})
}

func (o *outbox) leave(connID, group string) {
	o.deliveries = append(o.deliveries, delivery{kind: leaveGroup, target: connID, group: group})
}

func (o *outbox) record(deviceID string, point models.TelemetryPoint) {
	o.records = append(o.records, record{deviceID: deviceID, point: point})
}

// flush performs the collected side effects. Client broadcasts are mirrored
// to the publisher when one is configured.
func (o *outbox) flush(t Transport, rec Recorder, pub Publisher) {
	for _, d := range o.deliveries {
		switch d.kind {
		case deliverOne:
			t.SendToOne(d.target, d.event, d.payload)
		case deliverGroup:
			t.SendToGroup(d.target, d.event, d.payload)
			if pub != nil && d.target == ClientsGroup {
				pub.Publish(d.event, d.payload)
			}
		case joinGroup:
			t.Join(d.target, d.group)
		case leaveGroup:
			t.Leave(d.target, d.group)
		}
	}
	if rec == nil {
		return
	}
	for _, r := range o.records {
		rec.RecordTelemetry(r.deviceID, r.point)
	}
}
