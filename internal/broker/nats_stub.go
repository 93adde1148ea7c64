//go:build !nats

package broker

import "errors"

func openNATS(Config) (Broker, error) {
	return nil, errors.New("broker: nats support not compiled in; build with -tags=nats")
}
