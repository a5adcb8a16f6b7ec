package main

type Settings struct {
	Port                   int    `env:"PORT,default=8000"`
	BasePath               string `env:"BASE_PATH,default=/presence"`
	JWTSecret              string `env:"JWT_SECRET,required=true"`
	APIKeys                string `env:"API_KEYS"`
	RedisAddresses         string `env:"REDIS_ADDRESSES,default=localhost:6379"`
	PresenceChannelPattern string `env:"PRESENCE_CHANNEL_PATTERN,default=^presence:"`
	LogEncoding            string `env:"LOG_ENCODING,default=console"`
}
