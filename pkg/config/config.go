package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"stakex.com/pkg/logger"
)

// Load 读取 {service}.yaml 到 out
// 约定查找顺序：file 参数 > ./config/{service}.yaml > ./{service}.yaml
// 环境变量覆盖，例如 TREASURY_DB_SOURCE_NAME 覆盖 db.source_name
// 找不到配置文件时只用 defaults + 环境变量
func Load(service string, file string, out interface{}, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(service)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, err
		}
		logger.Log.Warn("config file not found, using defaults", zap.String("service", service))
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	logger.Log.Info("config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return v, nil
}
