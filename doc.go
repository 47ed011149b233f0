// Package recall is a long- and short-term memory service for
// conversational agents.
//
// It ingests multi-turn conversations through a durable work queue,
// extracts user facts with an LLM-backed extractor, persists them across a
// vector index, a graph store and a relational metadata store, and answers
// semantic search queries through a layered cache hierarchy.
//
// # Core Interfaces
//
// The root package defines the contracts all components implement:
//
//   - [Embedder]: text-to-vector embedding
//   - [FactExtractor]: conversation-to-fact-candidate extraction
//   - [VectorIndex]: embedding storage and similarity search
//   - [GraphStore]: user/fact relationship graph
//   - [MetadataStore]: relational system of record
//   - [KV]: distributed cache (L1) with version tags
//   - [MessageQueue]: durable queue with manual acknowledgement
//
// Concrete adapters live under store/ and queue/; the retrieval and
// ingestion services under search/, facts/, stm/, jobs/, worker/ and
// proactive/. Compose them at startup and pass dependencies explicitly;
// there are no package-level singletons.
package recall
