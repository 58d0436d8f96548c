package cfg

type Cfg struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Kafka configuration
	KafkaBrokers          string
	KafkaTopic            string
	KafkaGroupID          string
	KafkaBackfillGroupID  string
	KafkaCAPath           string
	KafkaCertPath         string
	KafkaKeyPath          string
	SourceBackfillEnabled bool

	// Feed configuration
	AdURLBase          string
	ExcludedFeedSource string
	DirectSource       string
	DefaultPageSize    int
	MaxPageSize        int

	// Auth configuration
	AuthIssuer   string
	AuthAudience string
	AuthSecret   string
	ElectorPath  string

	// Application configuration
	Port     string
	BaseUrl  string
	Timezone string
	Debug    bool
	Version  string
}
