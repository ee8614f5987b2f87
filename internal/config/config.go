package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Brand codes with destination credentials. Every brand that can appear in a
// Looker form must be present in the SFTP credential map and, for the Google
// Ads action, in the customer-id map for at least one country.
const (
	BrandCLZ = "CLZ"
	BrandINT = "INT"
	BrandTEZ = "TEZ"
	BrandFAL = "FAL"
)

var knownBrands = []string{BrandCLZ, BrandINT, BrandTEZ, BrandFAL}

type SFTPCredentials struct {
	User     string
	Password string
}

type SFTP struct {
	Host  string
	Port  int
	Creds map[string]SFTPCredentials // keyed by brand code
}

type Adform struct {
	ClientID       string
	ClientSecret   string
	TokenURL       string
	APIBaseURL     string
	DataProviderID int
	CategoryID     int
	TTLDays        int
	Fee            int
	Frequency      int
	Status         string
	ProviderTitle  string
	Bucket         string // object-store bucket for reconciliation files
}

type GoogleAds struct {
	DeveloperToken  string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	LoginCustomerID string
	APIBaseURL      string
	TTLDays         int
	// CustomerIDs maps brand -> country -> Google Ads customer id.
	CustomerIDs map[string]map[string]string
}

type Warehouse struct {
	ProjectID string
	// LagDays relaxes the freshness gate: data updated up to LagDays before
	// today still counts as fresh. Must be 0 in production.
	LagDays int
}

type HTTP struct {
	Port       string
	ServiceURL string // externally visible base URL advertised in /list
}

type Config struct {
	AppName   string
	HTTP      HTTP
	Warehouse Warehouse
	SFTP      SFTP
	Adform    Adform
	GoogleAds GoogleAds
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// parseCustomerIDs parses "BRAND:COUNTRY=id,BRAND:COUNTRY=id" entries.
func parseCustomerIDs(raw string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		bc := strings.SplitN(kv[0], ":", 2)
		if len(bc) != 2 {
			continue
		}
		brand, country := strings.TrimSpace(bc[0]), strings.TrimSpace(bc[1])
		if out[brand] == nil {
			out[brand] = make(map[string]string)
		}
		out[brand][country] = strings.TrimSpace(kv[1])
	}
	return out
}

func FromEnv() Config {
	creds := make(map[string]SFTPCredentials, len(knownBrands))
	for _, brand := range knownBrands {
		creds[brand] = SFTPCredentials{
			User:     os.Getenv("SFTP_USER_" + brand),
			Password: os.Getenv("SFTP_PASSWORD_" + brand),
		}
	}

	return Config{
		AppName: getenv("APP_NAME", "actionhub"),
		HTTP: HTTP{
			Port:       getenv("HTTP_PORT", ":8080"),
			ServiceURL: getenv("SERVICE_URL", "http://localhost:8080"),
		},
		Warehouse: Warehouse{
			ProjectID: getenv("GOOGLE_CLOUD_PROJECT", "development"),
			LagDays:   getenvInt("FRESHNESS_LAG_DAYS", 0),
		},
		SFTP: SFTP{
			Host:  getenv("SFTP_HOST", "ftp.s7.exacttarget.com"),
			Port:  getenvInt("SFTP_PORT", 22),
			Creds: creds,
		},
		Adform: Adform{
			ClientID:       os.Getenv("ADFORM_CLIENT_ID"),
			ClientSecret:   os.Getenv("ADFORM_CLIENT_SECRET"),
			TokenURL:       getenv("ADFORM_TOKEN_URL", "https://id.adform.com/sts/connect/token"),
			APIBaseURL:     getenv("ADFORM_API_URL", "https://api.adform.com"),
			DataProviderID: getenvInt("ADFORM_DATA_PROVIDER_ID", 0),
			CategoryID:     getenvInt("ADFORM_CATEGORY_ID", 0),
			TTLDays:        getenvInt("ADFORM_TTL", 30),
			Fee:            getenvInt("ADFORM_FEE", 0),
			Frequency:      getenvInt("ADFORM_FREQUENCY", 1),
			Status:         getenv("ADFORM_STATUS", "active"),
			ProviderTitle:  os.Getenv("ADFORM_PROVIDER_TITLE"),
			Bucket:         getenv("ADFORM_BUCKET", "data-providers"),
		},
		GoogleAds: GoogleAds{
			DeveloperToken:  os.Getenv("GOOGLE_ADS_DEVELOPER_TOKEN"),
			ClientID:        os.Getenv("GOOGLE_ADS_CLIENT_ID"),
			ClientSecret:    os.Getenv("GOOGLE_ADS_CLIENT_SECRET"),
			RefreshToken:    os.Getenv("GOOGLE_ADS_REFRESH_TOKEN"),
			LoginCustomerID: os.Getenv("GOOGLE_ADS_LOGIN_CUSTOMER_ID"),
			APIBaseURL:      getenv("GOOGLE_ADS_API_URL", "https://googleads.googleapis.com"),
			TTLDays:         getenvInt("GOOGLE_ADS_TTL", 10),
			CustomerIDs:     parseCustomerIDs(os.Getenv("GOOGLE_ADS_CUSTOMER_IDS")),
		},
	}
}

// SFTPCredentials returns the connection credentials for a brand, failing
// instead of returning placeholder values when the brand has no mapping.
func (c Config) SFTPCredentials(brand string) (SFTPCredentials, error) {
	creds, ok := c.SFTP.Creds[brand]
	if !ok || creds.User == "" || creds.Password == "" {
		return SFTPCredentials{}, fmt.Errorf("no SFTP credentials configured for brand %q", brand)
	}
	return creds, nil
}

// AdsCustomerID resolves the Google Ads account for a brand/country pair.
func (c Config) AdsCustomerID(brand, country string) (string, error) {
	if byCountry, ok := c.GoogleAds.CustomerIDs[brand]; ok {
		if id, ok := byCountry[country]; ok && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no Google Ads account for brand %q and country %q", brand, country)
}

// Validate fails fast on configuration that would otherwise only surface
// mid-run as a destination error.
func (c Config) Validate() error {
	var missing []string
	if c.Warehouse.ProjectID == "" {
		missing = append(missing, "GOOGLE_CLOUD_PROJECT")
	}
	if c.Adform.ClientID == "" {
		missing = append(missing, "ADFORM_CLIENT_ID")
	}
	if c.Adform.ClientSecret == "" {
		missing = append(missing, "ADFORM_CLIENT_SECRET")
	}
	if c.Adform.DataProviderID <= 0 {
		missing = append(missing, "ADFORM_DATA_PROVIDER_ID")
	}
	if c.Adform.ProviderTitle == "" {
		missing = append(missing, "ADFORM_PROVIDER_TITLE")
	}
	if c.GoogleAds.DeveloperToken == "" {
		missing = append(missing, "GOOGLE_ADS_DEVELOPER_TOKEN")
	}
	if len(c.GoogleAds.CustomerIDs) == 0 {
		missing = append(missing, "GOOGLE_ADS_CUSTOMER_IDS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
