//go:build !rabbitmq

package broker

import "errors"

func openRabbitMQ(Config) (Broker, error) {
	return nil, errors.New("broker: rabbitmq support not compiled in; build with -tags=rabbitmq")
}
