package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/azizikri/coupon-drop/internal/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func Topics(cfg *config.Config) []string {
	topics := make([]string, 0, 2*len(RequestTopics)+1)
	for _, topic := range RequestTopics {
		topics = append(topics, topic, topic+TopicDLQSuffix)
	}
	return append(topics, ReplyTopic(cfg))
}

func ReplyTopic(cfg *config.Config) string {
	return fmt.Sprintf("%s%s", TopicReplyPrefix, cfg.KafkaInstanceID)
}

func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config, log *zap.Logger) error {
	adm := kadm.NewClient(client)

	partitions := cfg.TopicPartitions()
	dlqPartitions := cfg.DLQPartitions()
	replicationFactor := cfg.ReplicationFactor()

	for _, topic := range Topics(cfg) {
		p := partitions
		if strings.HasSuffix(topic, TopicDLQSuffix) {
			p = dlqPartitions
		}

		resp, err := adm.CreateTopics(ctx, int32(p), replicationFactor, nil, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	log.Info("all topics ensured")
	return nil
}
