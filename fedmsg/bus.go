package fedmsg

import (
	"fmt"
	"net/url"
)

// BusSource streams the message bus's raw feed from a hub endpoint.
type BusSource struct {
	Hub string
}

func NewBusSource(hub string) BusSource {
	return BusSource{Hub: hub}
}

func (s BusSource) Key() string {
	return s.Hub
}

func (s BusSource) Url(cursor int64, dev bool) (*url.URL, error) {
	scheme := "wss"
	if dev {
		scheme = "ws"
	}

	u, err := url.Parse(scheme + "://" + s.Hub + "/raw")
	if err != nil {
		return nil, err
	}

	if cursor != 0 {
		query := url.Values{}
		query.Add("since", fmt.Sprintf("%d", cursor))
		u.RawQuery = query.Encode()
	}
	return u, nil
}
