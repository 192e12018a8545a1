package interfaces

var dbTypeLabels = map[string]string{
	"ClickHouse":    "ClickHouse",
	"DuckDb":        "DuckDb",
	"MsSql":         "MsSql",
	"MySql":         "MySql",
	"PostgreSql":    "PostgreSql",
	"SqLite":        "SQLite",
	"BigQuery":      "BigQuery",
	"Redshift":      "Redshift",
	"Snowflake":     "Snowflake",
	"Hive":          "Hive",
	"Cassandra":     "Cassandra",
	"Hbase":         "Hbase",
	"ScyllaDB":      "ScyllaDB",
	"InfluxDB":      "InfluxDB",
	"TimescaleDB":   "TimescaleDB",
	"OpenTSDB":      "OpenTSDB",
	"MongoDB":       "MongoDB",
	"CouchDB":       "CouchDB",
	"RavenDB":       "RavenDB",
	"Firestore":     "Firestore",
	"DynamoDB":      "DynamoDB",
	"CosmosDB":      "CosmosDB",
	"Redis":         "Redis",
	"BerkeleyDB":    "BerkeleyDB",
	"Riak":          "Riak",
	"CouchBase":     "CouchBase",
	"Db4o":          "Db4o",
	"Versant":       "Versant",
	"Neo4j":         "Neo4j",
	"OrientDB":      "OrientDB",
	"AmazonNeptune": "AmazonNeptune",
	"ArangoDB":      "ArangoDB",
	"BaseX":         "BaseX",
	"EXist":         "EXist",
	"MarkLogic":     "MarkLogic",
	CustomType:      "Custom",
}

var apiTypeLabels = map[string]string{
	"RestfulApi":       "Restful API",
	"SoapApi":          "Soap API",
	"RpcApi":           "RPC API",
	"GRpcApi":          "gRPC API",
	"GraphQL":          "GraphQL",
	"WebHooks":         "WebHooks",
	"HttpLongPolling":  "HTTP Long-Polling",
	"ServerSentEvents": "Server-Sent Events",
	"HttpServerPush":   "HTTP Server Push",
	"WebSub":           "WebSub",
	"WebSockets":       "WebSockets",
	"TcpSocket":        "Raw TCP Socket",
	"LibraryIDL":       "Library IDL",
	"Mqtt":             "MQTT",
	CustomType:         "Custom",
}

var storageTypeLabels = map[string]string{
	"AwsS3":                "AWS S3",
	"GoogleCloudStorage":   "Google Cloud Storage",
	"FirebaseCloudStorage": "Firebase Cloud Storage",
	"AzureBlobStorage":     "Azure Blob Storage",
	"LocalStorage":         "Local Storage",
	CustomType:             "Custom Storage",
}

var fileTypeLabels = map[string]string{
	"Csv":      "CSV",
	"Parquet":  "Parquet",
	"Avro":     "Avro",
	"Orc":      "Orc",
	"ProtoBuf": "Proto Buffer",
	"Json":     "JSON",
	"NdJson":   "NdJSON",
	"Xml":      "XML",
	CustomType: "Custom",
}

// FileTypeLabel returns the display name of a storage file type.
func (s Storage) FileTypeLabel() string {
	return label(fileTypeLabels, s.FileType, s.CustomFileType)
}
