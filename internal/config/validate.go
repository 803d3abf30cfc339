package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidFrameCounts are the frame counts a submission may request.
var ValidFrameCounts = []int{24, 36, 72}

// IsValidFrameCount reports whether n is an allowed spin frame count.
func IsValidFrameCount(n int) bool {
	for _, v := range ValidFrameCounts {
		if n == v {
			return true
		}
	}
	return false
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateStabilize(); err != nil {
		return err
	}
	if err := c.validateDetect(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return errors.New("storage.local_dir must be set when storage.backend is \"local\"")
		}
	case "s3":
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("storage.bucket must be set when storage.backend is \"s3\"")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (expected \"local\" or \"s3\")", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateBroker() error {
	switch c.Broker.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Broker.RedisURL) == "" {
			return errors.New("broker.redis_url must be set when broker.backend is \"redis\"")
		}
	default:
		return fmt.Errorf("broker.backend: unsupported value %q (expected \"memory\" or \"redis\")", c.Broker.Backend)
	}
	return nil
}

func (c *Config) validateStabilize() error {
	if c.Stabilize.Shakiness < 1 || c.Stabilize.Shakiness > 10 {
		return errors.New("stabilize.shakiness must be between 1 and 10")
	}
	if c.Stabilize.Accuracy < 1 || c.Stabilize.Accuracy > 15 {
		return errors.New("stabilize.accuracy must be between 1 and 15")
	}
	return nil
}

func (c *Config) validateDetect() error {
	if c.Detect.ConfidenceThreshold <= 0 || c.Detect.ConfidenceThreshold >= 1 {
		return errors.New("detect.confidence_threshold must be between 0 and 1")
	}
	if c.Detect.NMSThreshold <= 0 || c.Detect.NMSThreshold >= 1 {
		return errors.New("detect.nms_threshold must be between 0 and 1")
	}
	if c.Detect.InputSize%32 != 0 {
		return errors.New("detect.input_size must be a multiple of 32")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.PaddingFactor < 1 {
		return errors.New("pipeline.padding_factor must be at least 1.0")
	}
	if c.Pipeline.CoverageFullDegrees <= 0 || c.Pipeline.CoverageFullDegrees > 360 {
		return errors.New("pipeline.coverage_full_degrees must be between 0 and 360")
	}
	if c.Pipeline.WebPQuality < 1 || c.Pipeline.WebPQuality > 100 {
		return errors.New("pipeline.webp_quality must be between 1 and 100")
	}
	return nil
}
