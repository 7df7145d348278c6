package config

type AppConfig struct {
	Server ServerConfig
	Texts  TextsConfig
	Log    LogConfig
}

func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, err
	}
	textsCfg, err := LoadTexts()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server: serverCfg,
		Texts:  textsCfg,
		Log:    logCfg,
	}, nil
}
