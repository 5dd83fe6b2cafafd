package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Name:     "vassist",
			LogLevel: "info",
		},
		Host: HostConfig{
			BusBuffer: 100,
		},
		Skills: SkillsConfig{
			ManifestDir: "~/.vassist/skills",
		},
		SkillHost: SkillHostConfig{
			Port:         8082,
			ManifestPath: "~/.vassist/manifest.yaml",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		State: StateConfig{
			DBPath: "~/.vassist/state.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
	}
}
