package broker

import (
	"fmt"
	"net/url"
	"strings"
)

// Dial picks a backend by the scheme of conf.URL.
func Dial(conf *Config) (IBroker, error) {
	u, err := url.Parse(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url `%s`: %v", conf.URL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		return newMqttBroker(conf, u), nil
	case "kafka":
		brokers := strings.Split(u.Host, ",")
		return newKafkaBroker(conf, brokers), nil
	}
	return nil, fmt.Errorf("%w: `%s`", ErrUnsupportedScheme, u.Scheme)
}
