package vault

import (
	"fmt"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const defaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// VaultClient reads relayer key material from a Vault KV v2 mount.
type VaultClient struct {
	client       *resty.Client
	kvSecretPath string
	role         string
	token        string
}

type loginResponse struct {
	Errors []string `json:"errors"`
	Auth   *struct {
		ClientToken string `json:"client_token"`
	} `json:"auth"`
}

type kvResponse struct {
	Errors []string `json:"errors"`
	Data   *struct {
		Data map[string]interface{} `json:"data"`
	} `json:"data"`
}

// New logs in with the pod's kubernetes service account.
func New(addr, kvSecretPath, role string) (*VaultClient, error) {
	return newWithTokenFile(addr, kvSecretPath, role, defaultServiceAccountTokenPath)
}

func newWithTokenFile(addr, kvSecretPath, role, tokenPath string) (*VaultClient, error) {
	vc := &VaultClient{
		client:       resty.New().SetBaseURL(addr).SetHeader("Content-Type", "application/json"),
		kvSecretPath: kvSecretPath,
		role:         role,
	}

	k8sToken, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read service account token")
	}

	vc.token, err = vc.login(string(k8sToken))
	if err != nil {
		return nil, err
	}
	return vc, nil
}

func (vc *VaultClient) login(jwt string) (string, error) {
	var result loginResponse
	resp, err := vc.client.R().
		SetBody(map[string]string{"jwt": jwt, "role": vc.role}).
		SetResult(&result).
		Post("/v1/auth/kubernetes/login")
	if err != nil {
		return "", errors.Wrap(err, "vault login request failed")
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("vault authentication failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("vault authentication error: %v", result.Errors)
	}
	if result.Auth == nil || result.Auth.ClientToken == "" {
		return "", errors.New("vault returned empty client_token")
	}
	return result.Auth.ClientToken, nil
}

// GetKV returns one string value of the configured secret.
func (vc *VaultClient) GetKV(secretKey string) (string, error) {
	var result kvResponse
	resp, err := vc.client.R().
		SetHeader("X-Vault-Token", vc.token).
		SetResult(&result).
		Get("/v1/" + vc.kvSecretPath)
	if err != nil {
		return "", errors.Wrap(err, "vault KV request failed")
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("vault KV get failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("vault KV get error: %v", result.Errors)
	}
	if result.Data == nil || result.Data.Data == nil {
		return "", errors.New("vault response missing nested 'data' field")
	}

	raw, ok := result.Data.Data[secretKey]
	if !ok {
		return "", fmt.Errorf("secret key '%s' not found", secretKey)
	}
	secret, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key '%s' is not a string", secretKey)
	}
	return secret, nil
}

// Secrets are the keys the relayer signs with.
type Secrets struct {
	WalletWIF       string
	ChainRelayerKey string
}

// LoadSecrets fetches both signing keys in one place so startup fails on either.
func (vc *VaultClient) LoadSecrets() (*Secrets, error) {
	wif, err := vc.GetKV("btc_wallet_wif")
	if err != nil {
		return nil, errors.Wrap(err, "btc wallet wif")
	}
	chainKey, err := vc.GetKV("chain_relayer_private_key")
	if err != nil {
		return nil, errors.Wrap(err, "chain relayer key")
	}
	return &Secrets{WalletWIF: wif, ChainRelayerKey: chainKey}, nil
}
