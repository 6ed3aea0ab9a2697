package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Topic kinds.
const (
	KindState   = "STATE"
	KindStatus  = "STATUS"
	KindConfig  = "CONFIG"
	KindAlarm   = "ALARM"
	KindAction  = "ACTION"
	KindDCMD    = "DCMD"
	KindNCMD    = "NCMD"
	KindDDATA   = "DDATA"
	KindNDATA   = "NDATA"
)

// ErrBadTopic is returned for topics outside the gateway layout.
var ErrBadTopic = errors.New("malformed topic")

// Topics builds and parses the topic names of one gateway.
type Topics struct {
	Namespace string
	System    string
	Region    string
	Gateway   string
}

// Topic is a parsed topic name.
type Topic struct {
	Raw       string
	Namespace string
	System    string
	Region    string
	Kind      string
	Gateway   string
	// DeviceID is zero for gateway topics.
	DeviceID int
}

// GatewayTopic returns the gateway-level topic of a kind.
func (t Topics) GatewayTopic(kind string) string {
	return strings.Join([]string{t.Namespace, t.System, t.Region, kind, t.Gateway}, "/")
}

// Device returns the device topic of a kind in region; an empty region means the gateway's.
func (t Topics) Device(kind, region string, deviceID int) string {
	if region == "" {
		region = t.Region
	}

	return strings.Join([]string{t.Namespace, t.System, region, kind, t.Gateway, strconv.Itoa(deviceID)}, "/")
}

// Subscriptions returns the command filters of the gateway. Device commands are accepted from
// every region since devices carry their own.
func (t Topics) Subscriptions() []string {
	prefix := t.Namespace + "/" + t.System + "/+/"

	return []string{
		prefix + KindNCMD + "/" + t.Gateway,
		prefix + KindDCMD + "/" + t.Gateway + "/+",
	}
}

// Parse splits a topic name; gateway topics have 5 levels and device topics 6.
func (t Topics) Parse(raw string) (Topic, error) {
	parts := strings.Split(raw, "/")
	if len(parts) < 5 || len(parts) > 6 {
		return Topic{}, fmt.Errorf("%w: %q", ErrBadTopic, raw)
	}

	topic := Topic{
		Raw:       raw,
		Namespace: parts[0],
		System:    parts[1],
		Region:    parts[2],
		Kind:      parts[3],
		Gateway:   parts[4],
	}

	if len(parts) == 6 {
		id, err := strconv.Atoi(parts[5])
		if err != nil || id <= 0 {
			return Topic{}, fmt.Errorf("%w: device %q", ErrBadTopic, parts[5])
		}

		topic.DeviceID = id
	}

	return topic, nil
}

// Reply returns the response topic of a command topic.
func (p Topic) Reply() string {
	switch p.Kind {
	case KindDCMD:
		return strings.Replace(p.Raw, "/"+KindDCMD+"/", "/"+KindDDATA+"/", 1)
	case KindNCMD:
		return strings.Replace(p.Raw, "/"+KindNCMD+"/", "/"+KindNDATA+"/", 1)
	default:
		return p.Raw
	}
}
