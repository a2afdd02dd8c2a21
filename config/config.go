// Package config reads the recognized environment options and validates
// them at startup. Configuration problems surface as KindConfiguration
// errors before any loop starts.
package config

import (
	"math/big"
	"os"
	"strconv"
	"time"

	"justifai.co/issuance/model"
)

// Config is the full recognized option surface.
type Config struct {
	// Storage.
	StorageDriver string // "local" | "s3"
	StoragePath   string
	S3Bucket      string
	S3Region      string
	AWSEndpoint   string
	AWSAccessKey  string
	AWSSecretKey  string
	PublicURL     string

	// Persistence.
	DatabaseURL string

	// Polling intervals.
	JobInterval     time.Duration
	MRIInterval     time.Duration
	MRUInterval     time.Duration
	QRInterval      time.Duration
	AugmentInterval time.Duration

	PDFConcurrency int

	// Chain.
	RPCURL         string
	PrivateKey     string
	ContractAddr   string
	ContractType   string
	ChainID        int64
	Network        string
	MinPriorityFee *big.Int
	MinMaxFee      *big.Int

	// Verification.
	VerifyBaseURL   string
	VerifyQRBaseURL string
	IssuerPublicKey string
	IssuerName      string
	AutoSignKey     string
	AutoSignKeyFile string

	// QR rendering.
	QRPNGWidth    int
	QRPDFPNGWidth int
	QRMargin      int
	QRDarkColor   string
	QRLightColor  string
	QRStyle       string
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func integer(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, model.WrapError(model.KindConfiguration, "JF-CFG-001", key+" is not an integer", err)
	}
	return n, nil
}

func millis(key string, def time.Duration) (time.Duration, error) {
	n, err := integer(key, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func gwei(key string) (*big.Int, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, model.WrapError(model.KindConfiguration, "JF-CFG-002", key+" is not a gwei amount", err)
	}
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)), nil
}

// Load assembles the configuration from the environment.
func Load() (*Config, error) {
	c := &Config{
		StorageDriver:   str("STORAGE_DRIVER", "local"),
		StoragePath:     str("STORAGE_PATH", "./data"),
		S3Bucket:        os.Getenv("S3_BUCKET_NAME"),
		S3Region:        str("AWS_REGION", "us-east-1"),
		AWSEndpoint:     os.Getenv("AWS_ENDPOINT"),
		AWSAccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
		PublicURL:       os.Getenv("STORAGE_PUBLIC_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RPCURL:          os.Getenv("RPC_URL"),
		PrivateKey:      os.Getenv("PRIVATE_KEY"),
		ContractAddr:    os.Getenv("ANCHORSTORE_ADDRESS"),
		ContractType:    str("CONTRACT_TYPE", "emitOnly"),
		Network:         str("NETWORK", "amoy"),
		VerifyBaseURL:   os.Getenv("VERIFY_BASE_URL"),
		VerifyQRBaseURL: os.Getenv("VERIFY_QR_BASE_URL"),
		IssuerPublicKey: os.Getenv("ISSUER_PUBLIC_KEY"),
		IssuerName:      str("ISSUER_NAME", "Justifai"),
		AutoSignKey:     os.Getenv("AUTO_SIGN_PRIVATE_KEY"),
		AutoSignKeyFile: os.Getenv("AUTO_SIGN_KEY_FILE"),
		QRDarkColor:     os.Getenv("QR_DARK_COLOR"),
		QRLightColor:    os.Getenv("QR_LIGHT_COLOR"),
		QRStyle:         str("QR_STYLE", "classic"),
	}

	var err error
	if c.JobInterval, err = millis("JOB_POLL_INTERVAL_MS", 2*time.Second); err != nil {
		return nil, err
	}
	if c.MRIInterval, err = millis("MRI_POLL_INTERVAL_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if c.MRUInterval, err = millis("MRU_POLL_INTERVAL_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if c.QRInterval, err = millis("QR_POLL_INTERVAL_MS", 3*time.Second); err != nil {
		return nil, err
	}
	if c.AugmentInterval, err = millis("PDF_AUGMENT_POLL_INTERVAL_MS", 3*time.Second); err != nil {
		return nil, err
	}
	if c.PDFConcurrency, err = integer("PDF_CONCURRENCY", 2); err != nil {
		return nil, err
	}
	if c.QRPNGWidth, err = integer("QR_PNG_WIDTH", 768); err != nil {
		return nil, err
	}
	if c.QRPDFPNGWidth, err = integer("QR_PDF_PNG_WIDTH", 1536); err != nil {
		return nil, err
	}
	if c.QRMargin, err = integer("QR_MARGIN", 8); err != nil {
		return nil, err
	}
	chainID, err := integer("CHAIN_ID", 0)
	if err != nil {
		return nil, err
	}
	c.ChainID = int64(chainID)
	if c.MinPriorityFee, err = gwei("MIN_PRIORITY_FEE_GWEI"); err != nil {
		return nil, err
	}
	if c.MinMaxFee, err = gwei("MIN_MAX_FEE_GWEI"); err != nil {
		return nil, err
	}

	return c, c.validate()
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case "local", "s3":
	default:
		return model.NewError(model.KindConfiguration, "JF-CFG-003", "STORAGE_DRIVER must be local or s3")
	}
	if c.StorageDriver == "s3" && c.S3Bucket == "" {
		return model.NewError(model.KindConfiguration, "JF-CFG-004", "S3_BUCKET_NAME is required for the s3 driver")
	}
	switch c.ContractType {
	case "legacy", "emitOnly":
	default:
		return model.NewError(model.KindConfiguration, "JF-CFG-005", "CONTRACT_TYPE must be legacy or emitOnly")
	}
	switch c.QRStyle {
	case "classic", "dark", "transparent":
	default:
		return model.NewError(model.KindConfiguration, "JF-CFG-006", "QR_STYLE must be classic, dark, or transparent")
	}
	return nil
}

// ChainEnabled reports whether anchoring is configured.
func (c *Config) ChainEnabled() bool {
	return c.RPCURL != "" && c.PrivateKey != "" && c.ContractAddr != ""
}
