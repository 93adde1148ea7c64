//go:build !kafka

package broker

import "errors"

func openKafka(Config) (Broker, error) {
	return nil, errors.New("broker: kafka support not compiled in; build with -tags=kafka")
}
