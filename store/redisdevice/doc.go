// Package redisdevice stores trusted-device records in Redis.
//
// Each record is a hash whose native TTL matches the trust window, so expired
// devices disappear without a sweeper. A per-account set indexes the token
// digests for DeleteAll. Both keys share the account hash tag and the
// multi-key scripts stay valid on Redis Cluster.
package redisdevice
