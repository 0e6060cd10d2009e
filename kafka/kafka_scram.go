package kafka

import (
	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/khiemvuong/e-commerce-saas-sub002/config"
)

// SCRAM认证，部分托管 Kafka 只支持 SCRAM 不支持 PLAIN
func NewSaramaConfigWithSCRAM(cfg *config.KafkaConfig, mechanism string) (*sarama.Config, error) {
	config, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	config.Net.SASL.Enable = true
	config.Net.SASL.User = cfg.Username
	config.Net.SASL.Password = cfg.Password
	config.Net.SASL.Handshake = true

	// 选择SCRAM机制
	switch mechanism {
	case "SCRAM-SHA-256":
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: scram.SHA256}
		}
	case "SCRAM-SHA-512":
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: scram.SHA512}
		}
	default:
		// 默认使用PLAIN
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}

	return config, nil
}

// SCRAM客户端实现
type XDGSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *XDGSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *XDGSCRAMClient) Step(challenge string) (response string, err error) {
	response, err = x.ClientConversation.Step(challenge)
	return
}

func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
