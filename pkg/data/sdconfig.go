package data

import (
	"encoding/json"
)

// ServiceIdStableDiffusion is the target service id for stable diffusion
// jobs.
const ServiceIdStableDiffusion = "ai.sd14"

type BatchSize uint

const (
	BatchSize1 BatchSize = 1
	BatchSize2 BatchSize = 2
	BatchSize4 BatchSize = 4
	BatchSize8 BatchSize = 8
)

type Sampler string

const (
	SamplerKEuler          Sampler = "k_euler"
	SamplerKEulerAncestral Sampler = "k_euler_ancestral"
	SamplerKHeun           Sampler = "k_heun"
	SamplerKDpm2           Sampler = "k_dpm_2"
	SamplerKDpm2Ancestral  Sampler = "k_dpm_2_ancestral"
	SamplerKLms            Sampler = "k_lms"
	SamplerDdim            Sampler = "ddim"
	SamplerPlms            Sampler = "plms"
)

// ImageSize is one of the generation dimensions the backend accepts, for
// both width and height.
type ImageSize uint

const (
	Size384 ImageSize = 384
	Size448 ImageSize = 448
	Size512 ImageSize = 512
	Size576 ImageSize = 576
	Size640 ImageSize = 640
	Size704 ImageSize = 704
	Size768 ImageSize = 768
)

type ImageFormat string

const (
	FormatPng  ImageFormat = "png"
	FormatJpeg ImageFormat = "jpeg"
	FormatWebp ImageFormat = "webp"
)

// StableDiffusionConfig is the full parameter set of one generation job.
// The json field names are a wire contract with the backend and must not
// change. Optional fields are pointers and omitted when nil.
type StableDiffusionConfig struct {
	Steps           uint        `json:"steps"`
	SkipSteps       uint        `json:"skip_steps"`
	BatchSize       BatchSize   `json:"batch_size"`
	Sampler         Sampler     `json:"sampler"`
	GuidanceScale   float32     `json:"guidance_scale"`
	Width           ImageSize   `json:"width"`
	Height          ImageSize   `json:"height"`
	Prompt          string      `json:"prompt"`
	NegativePrompt  string      `json:"negative_prompt"`
	InitImage       *string     `json:"init_image,omitempty"`
	Mask            *string     `json:"mask,omitempty"`
	ImageFormat     ImageFormat `json:"image_format"`
	TranslatePrompt bool        `json:"translate_prompt"`
	NsfwFilter      bool        `json:"nsfw_filter"`
	Seed            *uint64     `json:"seed,omitempty"`
}

// Encode serializes the config to the job_config string attached to a job
// submission. The client never parses it back; DecodeStableDiffusionConfig
// exists for tooling and tests.
func (c *StableDiffusionConfig) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeStableDiffusionConfig(blob string) (*StableDiffusionConfig, error) {
	c := &StableDiffusionConfig{}
	err := json.Unmarshal([]byte(blob), c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
