package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ftpmirror/pkg/transfer"
)

const publishTimeout = 5 * time.Second

// MQTTOptions 对应配置中的 mqtt 段
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTObserver 将文件完成与运行结束事件以 JSON 发布到 broker。
// 发布失败只记录日志，不影响下载
type MQTTObserver struct {
	transfer.NoopObserver
	client publisher
	topic  string
	qos    byte
	runID  string
	logger *slog.Logger
	closer func()
}

type jobPayload struct {
	Event      string    `json:"event"`
	RunID      string    `json:"run_id"`
	RemotePath string    `json:"remote_path"`
	LocalPath  string    `json:"local_path"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

type finishPayload struct {
	Event    string            `json:"event"`
	RunID    string            `json:"run_id"`
	Counters transfer.Counters `json:"counters"`
	Time     time.Time         `json:"time"`
}

// DialMQTT 连接 broker 并返回 Observer
func DialMQTT(opts MQTTOptions, runID string, logger *slog.Logger) (*MQTTObserver, error) {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "ftpmirror-" + runID
	}
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT 连接断开", "broker", opts.Broker, "err", err)
	}
	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("连接 MQTT %s 失败: %w", opts.Broker, token.Error())
	}
	obs := NewMQTTObserver(client, opts.Topic, opts.QoS, runID, logger)
	obs.closer = func() { client.Disconnect(250) }
	return obs, nil
}

// NewMQTTObserver 使用已连接的客户端创建 Observer
func NewMQTTObserver(client publisher, topic string, qos byte, runID string, logger *slog.Logger) *MQTTObserver {
	if topic == "" {
		topic = "ftpmirror/events"
	}
	return &MQTTObserver{client: client, topic: topic, qos: qos, runID: runID, logger: logger}
}

func (m *MQTTObserver) JobCompleted(job transfer.FileJob, outcome transfer.Outcome, err error) {
	payload := jobPayload{
		Event:      "completed",
		RunID:      m.runID,
		RemotePath: job.RemotePath,
		LocalPath:  job.LocalPath,
		Outcome:    outcome.String(),
		Time:       time.Now().UTC(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	m.publish(payload)
}

func (m *MQTTObserver) RunFinished(counters transfer.Counters) {
	m.publish(finishPayload{
		Event:    "finished",
		RunID:    m.runID,
		Counters: counters,
		Time:     time.Now().UTC(),
	})
}

func (m *MQTTObserver) publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("序列化 MQTT 消息失败", "err", err)
		return
	}
	token := m.client.Publish(m.topic, m.qos, false, data)
	if !token.WaitTimeout(publishTimeout) {
		m.logger.Warn("MQTT 发布超时", "topic", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("MQTT 发布失败", "topic", m.topic, "err", err)
	}
}

// Close 断开 broker 连接
func (m *MQTTObserver) Close() {
	if m.closer != nil {
		m.closer()
	}
}
