package broker

import "context"

// NewTestKafkaBroker builds a kafka backend around the given reader, writer and probe.
func NewTestKafkaBroker(conf *Config, probe func(context.Context) error,
	readers map[string]IKafkaReader, writer IKafkaWriter) IBroker {

	b := newKafkaBroker(conf, []string{"127.0.0.1:9092"})
	_ = b.writer.Close()
	b.probe = probe
	b.newReader = func(topic string) IKafkaReader { return readers[topic] }
	b.writer = writer
	return b
}
