package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/chzzk-tts/internal/model/speech"
)

// DefaultTTSURL 火山引擎单向流式合成地址
const DefaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

const (
	defaultResource = "volc.service_type.10029"
	megaResource    = "volc.megatts.default"
	seedResource    = "seed-tts-2.0"
)

var (
	ErrEmptyText         = errors.New("TTS text is empty")
	ErrEmptyAudio        = errors.New("TTS audio is empty")
	ErrMissingCredential = errors.New("speech config missing AppID or AccessToken")
)

// VolcengineSynthesizer 火山引擎 TTS WebSocket 客户端
type VolcengineSynthesizer struct {
	config *speechmodel.SpeechConfig
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// NewVolcengineSynthesizer 创建合成客户端，BaseURL 为空时使用官方地址
func NewVolcengineSynthesizer(config *speechmodel.SpeechConfig, logger *slog.Logger) *VolcengineSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	url := DefaultTTSURL
	if config != nil && strings.TrimSpace(config.BaseURL) != "" {
		url = strings.TrimSpace(config.BaseURL)
	}
	return &VolcengineSynthesizer{
		config: config,
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger: logger.With("component", "tts"),
	}
}

// credentials 返回规范化后的 AppID 与 AccessToken
func (c *VolcengineSynthesizer) credentials() (string, string, error) {
	if c.config == nil {
		return "", "", ErrMissingCredential
	}
	appID := strings.TrimSpace(c.config.AppID)
	token := strings.TrimSpace(c.config.AccessToken)
	if token == "" {
		token = strings.TrimSpace(c.config.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrMissingCredential
	}
	return appID, token, nil
}

// Synthesize 合成一句文本。资源 ID 与音色不匹配时依次尝试候选资源。
func (c *VolcengineSynthesizer) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	appKey, accessKey, err := c.credentials()
	if err != nil {
		return nil, err
	}

	encoding := strings.TrimSpace(req.Format)
	if encoding == "" || encoding == "wav" {
		encoding = "mp3"
	}

	speakers := speakerCandidates(req.Voice, c.config.TTSVoice)
	var lastMismatch error
	for _, speaker := range speakers {
		for idx, resourceID := range c.resourceCandidates(speaker) {
			resp, err := c.synthesizeWith(ctx, req, appKey, accessKey, speaker, encoding, resourceID)
			if err == nil {
				if idx > 0 {
					c.logger.Info("voice succeeded with fallback resource", slog.String("voice", speaker), slog.String("resource", resourceID))
				}
				return resp, nil
			}
			if !isResourceMismatchError(err) {
				return nil, err
			}
			c.logger.Warn("voice resource mismatch", slog.String("voice", speaker), slog.String("resource", resourceID), slog.Any("err", err))
			lastMismatch = err
		}
	}
	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("TTS synthesis failed: no compatible resource for voices %v", speakers)
}

func (c *VolcengineSynthesizer) synthesizeWith(
	ctx context.Context,
	req *speechmodel.TTSRequest,
	appKey, accessKey, speaker, encoding, resourceID string,
) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debug("tts connected", slog.String("logid", logid))
		}
	}

	// 读阻塞时由 ctx 取消关闭连接
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	payload, userUID, err := c.buildRequest(req, speaker, encoding)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, NewRequestFrame(payload, NoCompression).Encode()); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = userUID
	}

	var (
		audio    []byte
		reqID    string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS frame: %w", err)
		}
		body, err := frame.Body()
		if err != nil {
			return nil, fmt.Errorf("failed to decompress TTS frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			return nil, fmt.Errorf("TTS error %d: %s", frame.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			audio = append(audio, body...)
			if !frame.IsLast() {
				continue
			}

		case FullServerResponse:
			var msg ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					c.logger.Debug("unparsed tts payload", slog.Any("err", err))
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
						duration = ms
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio = append(audio, chunk...)
					}
				}
			}
			finished := frame.hasEvent() && frame.Event == EventTypeSessionFinished
			if !finished && !frame.IsLast() && msg.Sequence >= 0 {
				continue
			}

		default:
			c.logger.Debug("unexpected tts frame", slog.Int("type", int(frame.Header.Type)))
			continue
		}

		if len(audio) == 0 {
			return nil, ErrEmptyAudio
		}
		if reqID == "" {
			reqID = connectID
		}
		return &speechmodel.TTSResponse{
			SessionID: sessionID,
			AudioData: audio,
			Duration:  duration,
			Format:    encoding,
			RequestID: reqID,
			CreatedAt: time.Now(),
		}, nil
	}
}

// buildRequest 构建符合火山引擎 API 格式的请求体
func (c *VolcengineSynthesizer) buildRequest(req *speechmodel.TTSRequest, speaker, encoding string) ([]byte, string, error) {
	var r ttsRequest

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}
	r.User.UID = uid
	r.ReqParams.Speaker = speaker
	r.ReqParams.Text = req.Text
	r.ReqParams.AudioParams.Format = encoding
	r.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		r.ReqParams.AudioParams.SpeedRatio = speed
	}
	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		r.ReqParams.AudioParams.VolumeRatio = volume
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	r.ReqParams.Language = language
	r.ReqParams.Additions = `{"disable_markdown_filter":true}`

	data, err := json.Marshal(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	return data, uid, nil
}

// resourceCandidates 根据音色推断资源 ID，配置了 Cluster 时只用配置值
func (c *VolcengineSynthesizer) resourceCandidates(voice string) []string {
	if c.config != nil && strings.TrimSpace(c.config.Cluster) != "" {
		return []string{strings.TrimSpace(c.config.Cluster)}
	}

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

// speakerCandidates 请求音色优先，其次为配置音色，大小写不敏感去重
func speakerCandidates(requested, fallback string) []string {
	var out []string
	for _, s := range []string{requested, fallback} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
