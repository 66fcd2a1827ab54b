package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/mqy/minichat/broker"
	"github.com/mqy/minichat/model"
	"github.com/mqy/minichat/router"
)

// The demo bot mocks a chat host that talks to guests through `kafka`:
// run minichat with --broker-url=kafka://127.0.0.1:9092 to see its messages.

var (
	kafkaEndpoints = flag.String("kafka-endpoints", "127.0.0.1:9092", "kafka endpoints, ',' delimitted.")
	hostTopic      = flag.String("host-topic", router.DefaultHostTopic, "topic to publish host messages on")
	tickerDuration = flag.Duration("ticker-duration", 30*time.Second, "ticker duration")
	texts          = flag.String("texts", "hello|how is it going?|anyone here?", "'|' delimitted message texts, sent in turn")
)

func main() {
	flag.Parse()

	if len(*kafkaEndpoints) == 0 {
		panic("--kafka-endpoints is required.")
	}

	endpoints := strings.Split(*kafkaEndpoints, ",")
	topic := broker.KafkaTopic(*hostTopic)

	w := &kafka.Writer{
		Addr:                   kafka.TCP(endpoints...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	ticker := time.NewTicker(*tickerDuration)
	defer func() {
		ticker.Stop()
	}()

	lines := strings.Split(*texts, "|")

	// kafka-topics.sh --bootstrap-server localhost:9092 --topic chat.host --create

	var i int = 0
	for range ticker.C {
		p := &model.Payload{
			Text:  lines[i%len(lines)],
			Color: model.Colors[i%len(model.Colors)],
			Time:  time.Now().UnixMilli(),
		}

		value, err := json.Marshal(p)
		if err != nil {
			panic(err)
		}

		msg := kafka.Message{
			Key:   []byte(fmt.Sprintf("%d", i)),
			Value: value,
		}
		if err := w.WriteMessages(context.Background(), msg); err != nil {
			panic(err)
		}

		i++
	}
}
