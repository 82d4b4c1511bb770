package walletrpc

const (
	MethodEthAccounts        = "eth_accounts"
	MethodEthChainID         = "eth_chainId"
	MethodEthRequestAccounts = "eth_requestAccounts"
	MethodEthSendTransaction = "eth_sendTransaction"
	MethodEthSignTypedDataV4 = "eth_signTypedData_v4"
	MethodPersonalSign       = "personal_sign"

	MethodExperimentalPermissions           = "experimental_permissions"
	MethodExperimentalCreateAccount         = "experimental_createAccount"
	MethodExperimentalGrantPermissions      = "experimental_grantPermissions"
	MethodExperimentalPrepareUpgradeAccount = "experimental_prepareUpgradeAccount"
	MethodExperimentalRevokePermissions     = "experimental_revokePermissions"
	MethodExperimentalUpgradeAccount        = "experimental_upgradeAccount"

	MethodBatuaPing = "batua_ping"

	MethodWalletConnect           = "wallet_connect"
	MethodWalletDisconnect        = "wallet_disconnect"
	MethodWalletGetCallsStatus    = "wallet_getCallsStatus"
	MethodWalletGetCapabilities   = "wallet_getCapabilities"
	MethodWalletPrepareCalls      = "wallet_prepareCalls"
	MethodWalletSendCalls         = "wallet_sendCalls"
	MethodWalletSendPreparedCalls = "wallet_sendPreparedCalls"
	MethodWalletRevokePermissions = "wallet_revokePermissions"
)

// schema decodes a validated params struct into its typed form.
type schema interface {
	decode() (interface{}, error)
}

// methods is the closed set of methods the provider accepts. A nil
// constructor means the method takes no params.
var methods = map[string]func() schema{
	MethodEthAccounts:        nil,
	MethodEthChainID:         nil,
	MethodEthRequestAccounts: nil,
	MethodEthSendTransaction: func() schema { return &sendTransactionSchema{} },
	MethodEthSignTypedDataV4: func() schema { return &signTypedDataSchema{} },
	MethodPersonalSign:       func() schema { return &personalSignSchema{} },

	MethodExperimentalPermissions:           func() schema { return &rawSchema{} },
	MethodExperimentalCreateAccount:         func() schema { return &createAccountSchema{} },
	MethodExperimentalGrantPermissions:      func() schema { return &rawSchema{} },
	MethodExperimentalPrepareUpgradeAccount: func() schema { return &rawSchema{} },
	MethodExperimentalRevokePermissions:     func() schema { return &rawSchema{} },
	MethodExperimentalUpgradeAccount:        func() schema { return &rawSchema{} },

	MethodBatuaPing: nil,

	MethodWalletConnect:           func() schema { return &connectSchema{} },
	MethodWalletDisconnect:        nil,
	MethodWalletGetCallsStatus:    func() schema { return &getCallsStatusSchema{} },
	MethodWalletGetCapabilities:   func() schema { return &getCapabilitiesSchema{} },
	MethodWalletPrepareCalls:      func() schema { return &prepareCallsSchema{} },
	MethodWalletSendCalls:         func() schema { return &sendCallsSchema{} },
	MethodWalletSendPreparedCalls: func() schema { return &sendPreparedCallsSchema{} },
	MethodWalletRevokePermissions: func() schema { return &rawSchema{} },
}

// IsSupported reports whether method belongs to the provider's method set.
func IsSupported(method string) bool {
	_, ok := methods[method]
	return ok
}

// Methods lists the supported methods in no particular order.
func Methods() []string {
	out := make([]string, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	return out
}
