package speech

import "time"

// SpeechConfig 语音合成与播放配置
type SpeechConfig struct {
	// Volcengine 配置
	AppID       string `json:"appId"`            // 火山引擎 APP ID
	AccessToken string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey      string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	BaseURL     string `json:"baseUrl"`          // 为空时使用官方流式合成地址
	Cluster     string `json:"cluster"`          // 资源 ID，为空时按音色推断

	// TTS 配置
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	// 播放配置
	Player    string `json:"player"`    // 外部播放命令，含 {file} 时写临时文件
	QueueSize int    `json:"queueSize"` // 待播放队列长度

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}

// TimeoutDuration 返回单次合成的超时时间。
func (c *SpeechConfig) TimeoutDuration() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}
