package state

import (
	"encoding/hex"
	"fmt"
	"strings"
)

var (
	escrowJobPrefix        = "escrow/job/"
	escrowMilestonePrefix  = "escrow/milestone/"
	escrowApplicantsPrefix = "escrow/applicants/"
	escrowEvidencePrefix   = "escrow/evidence/"
	escrowDisputePrefix    = "escrow/dispute/"
	escrowBalancePrefix    = "escrow/balance/"
	escrowRefundPrefix     = "escrow/refund/"
	escrowOwedPrefix       = "escrow/owed/"
	escrowLockedPrefix     = "escrow/locked/"
	escrowPolicyKeyBytes   = []byte("escrow/policy")
	escrowJobSeqKeyBytes   = []byte("escrow/seq/job")
	accessRolePrefix       = "access/role/"
	accessPausedKeyBytes   = []byte("access/paused")
	accessAdminCountKey    = []byte("access/admins")
	bankAccountPrefix      = "bank/account/"
	reputationScorePrefix  = "reputation/score/"
	reputationCredPrefix   = "reputation/credential/"
	arbitrationCasePrefix  = "arbitration/case/"
	arbitrationSeqKeyBytes = []byte("arbitration/seq/case")
)

func addrHex(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func EscrowJobKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", escrowJobPrefix, id))
}

func EscrowMilestoneKey(id uint64, index int) []byte {
	return []byte(fmt.Sprintf("%s%d/%d", escrowMilestonePrefix, id, index))
}

func EscrowApplicantsKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", escrowApplicantsPrefix, id))
}

func EscrowEvidenceKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", escrowEvidencePrefix, id))
}

func EscrowDisputeKey(externalID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", escrowDisputePrefix, externalID))
}

func EscrowBalanceKey(addr [20]byte, asset string) []byte {
	return []byte(escrowBalancePrefix + addrHex(addr) + "/" + normalizeAsset(asset))
}

func EscrowRefundKey(addr [20]byte, asset string) []byte {
	return []byte(escrowRefundPrefix + addrHex(addr) + "/" + normalizeAsset(asset))
}

func EscrowOwedKey(asset string) []byte {
	return []byte(escrowOwedPrefix + normalizeAsset(asset))
}

func EscrowLockedKey(asset string) []byte {
	return []byte(escrowLockedPrefix + normalizeAsset(asset))
}

func EscrowPolicyKey() []byte { return append([]byte(nil), escrowPolicyKeyBytes...) }

func EscrowJobSequenceKey() []byte { return append([]byte(nil), escrowJobSeqKeyBytes...) }

func AccessRoleKey(role string, addr [20]byte) []byte {
	return []byte(accessRolePrefix + role + "/" + addrHex(addr))
}

func AccessPausedKey() []byte { return append([]byte(nil), accessPausedKeyBytes...) }

func AccessAdminCountKey() []byte { return append([]byte(nil), accessAdminCountKey...) }

func BankAccountKey(addr [20]byte, asset string) []byte {
	return []byte(bankAccountPrefix + addrHex(addr) + "/" + normalizeAsset(asset))
}

func ReputationScoreKey(addr [20]byte) []byte {
	return []byte(reputationScorePrefix + addrHex(addr))
}

func ReputationCredentialKey(id [32]byte) []byte {
	return []byte(reputationCredPrefix + hex.EncodeToString(id[:]))
}

func ArbitrationCaseKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", arbitrationCasePrefix, id))
}

func ArbitrationSequenceKey() []byte { return append([]byte(nil), arbitrationSeqKeyBytes...) }

// NextSequence increments and returns the counter stored under key. The
// first value handed out is 1.
func NextSequence(kv KV, key []byte) (uint64, error) {
	var current uint64
	if _, err := kv.KVGet(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := kv.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}
